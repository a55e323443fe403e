package systemd

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/starford/unitdeck/internal/apperr"
)

func TestValidName(t *testing.T) {
	valid := []string{"nginx.service", "getty@tty1.service", "dev-disk-by\\x2duuid.service", "a:b_c.service"}
	for _, name := range valid {
		assert.NoError(t, ValidName(name, nil), name)
	}

	invalid := []string{"", "nginx", "-nginx.service", "nginx.timer", "../etc/passwd.service", "a b.service", "x;rm.service"}
	for _, name := range invalid {
		err := ValidName(name, nil)
		if assert.Error(t, err, name) {
			assert.True(t, errors.Is(err, apperr.ErrInvalidRequest), name)
		}
	}

	assert.NoError(t, ValidName("cron.timer", []string{".service", ".timer"}))
}

func TestTypeFlag(t *testing.T) {
	assert.Equal(t, "--type=service,socket", typeFlag([]string{".service", ".socket"}))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512.0B", FormatBytes(512))
	assert.Equal(t, "1.5KB", FormatBytes(1536))
	assert.Equal(t, "2.0GB", FormatBytes(2<<30))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", FormatUptime(42*time.Second))
	assert.Equal(t, "5m", FormatUptime(5*time.Minute+10*time.Second))
	assert.Equal(t, "3h 4m", FormatUptime(3*time.Hour+4*time.Minute))
	assert.Equal(t, "2d 1h", FormatUptime(49*time.Hour))
}
