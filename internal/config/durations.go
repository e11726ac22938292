package config

import "time"

// Duration helpers so callers never multiply units by hand.

func (t *TrackingConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatSec) * time.Second
}

func (t *TrackingConfig) CommitDebounce() time.Duration {
	return time.Duration(t.CommitDebounceMs) * time.Millisecond
}

func (t *TrackingConfig) IdleThreshold() time.Duration {
	return time.Duration(t.IdleThresholdSec) * time.Second
}

func (e *EnforcementConfig) FastCheckEvery() time.Duration {
	return time.Duration(e.FastCheckSec) * time.Second
}

func (e *EnforcementConfig) SnoozeBuffer() time.Duration {
	return time.Duration(e.SnoozeBufferMs) * time.Millisecond
}

func (c *CategoriesConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchSec) * time.Second
}

func (i *IPCConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSec) * time.Second
}
