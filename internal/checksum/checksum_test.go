package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestJSONStable(t *testing.T) {
	type row struct {
		Name string `json:"name"`
		On   bool   `json:"on"`
	}
	a, err := JSON([]row{{"a.service", true}, {"b.service", false}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := JSON([]row{{"a.service", true}, {"b.service", false}})
	c, _ := JSON([]row{{"a.service", false}, {"b.service", false}})
	if a != b {
		t.Error("equal values gave different digests")
	}
	if a == c {
		t.Error("different values gave the same digest")
	}
}
