package mcpserver

// UnitStatesGuide explains the state vocabulary used in tool results.
const UnitStatesGuide = `# Unit States

Every unit reported by the tools carries two independent states.

## active_state

- ` + "`active`" + `: running (or, for oneshot units, finished successfully and remaining active).
- ` + "`inactive`" + `: not running.
- ` + "`failed`" + `: the last run ended with an error. ` + "`restart`" + ` is the usual remedy.
- ` + "`activating`" + ` / ` + "`deactivating`" + `: a start or stop job is in progress.
- ` + "`unknown`" + `: systemd reported something else.

## enabled_state

- ` + "`enabled`" + `: started at boot.
- ` + "`disabled`" + `: not started at boot.
- ` + "`static`" + `: cannot be enabled; pulled in by other units.
- ` + "`masked`" + `: cannot be started at all.
- ` + "`unknown`" + `: no unit file state was reported.

## Rules

1. ` + "`start`" + `, ` + "`stop`" + ` and ` + "`restart`" + ` change active_state; ` + "`enable`" + ` and ` + "`disable`" + ` change enabled_state only.
2. A control result carries the command's exit code and the unit as observed afterwards.
   Check ` + "`observed.active_state`" + `: a zero exit code does not guarantee the unit is running.
3. Only one action per unit runs at a time. A second request returns ` + "`accepted: false`" + `; retry after the first finishes.
4. Rows with ` + "`present: false`" + ` are units that have metadata but are no longer installed.
5. Unit names are full names including the suffix, e.g. ` + "`nginx.service`" + `.
`
