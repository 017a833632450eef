package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	// Relative axis codes rotary knobs report on. Dial knobs (PowerMate and
	// friends) use REL_DIAL, scroll rings use REL_WHEEL, oddballs use
	// REL_MISC.
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
	REL_MISC  = 0x09

	// gpio-keys devices expose encoder channels as generic buttons
	BTN_0 = 0x100
	BTN_1 = 0x101
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Daemon configuration defaults
const (
	defaultUpdateHz      = 10  // Tick loop frequency (Hz)
	defaultHTTPPort      = 8088
	defaultSinkTimeoutMS = 500 // Timeout for sink websocket writes (ms)

	// Encoder defaults, applied when an encoder entry leaves them unset and
	// to encoders first seen over IPC.
	defaultDivisions      = 4    // Raw counts per detent
	defaultResetTimeoutMS = 1200 // Idle time before partial counts are dropped (ms)
)
