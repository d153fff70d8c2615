package vectorguard

import "time"

type escalationObservation struct {
	rootCommand    bool
	setuidAttempt  bool
	bufferOverflow bool
	suspiciousFile bool
}

// U2RFeatures counts local privilege escalation indicators inside the window.
type U2RFeatures struct {
	RootCommands         int
	SetuidAttempts       int
	BufferOverflows      int
	SuspiciousFileAccess int
}

// U2RDetector flags user-to-root escalation attempts.
type U2RDetector struct {
	window *SlidingWindow[escalationObservation]
}

func NewU2RDetector(window time.Duration, maxSources, maxPerKey int) *U2RDetector {
	return &U2RDetector{window: NewSlidingWindow[escalationObservation](window, maxSources, maxPerKey)}
}

func (d *U2RDetector) Category() Category { return CategoryU2R }
func (d *U2RDetector) Window() time.Duration { return d.window.Window() }
func (d *U2RDetector) Forget(source string) { d.window.Forget(source) }
func (d *U2RDetector) Sources() int { return d.window.Len() }

// Record retains only events carrying an escalation indicator.
func (d *U2RDetector) Record(ev Event, now time.Time) error {
	if !ev.RootCommand && !ev.SetuidAttempt && !ev.BufferOverflow && !ev.SuspiciousFileAccess {
		d.window.Prune(ev.Source, now)
		return nil
	}
	d.window.Record(ev.Source, now, escalationObservation{
		rootCommand:    ev.RootCommand,
		setuidAttempt:  ev.SetuidAttempt,
		bufferOverflow: ev.BufferOverflow,
		suspiciousFile: ev.SuspiciousFileAccess,
	})
	return nil
}

func (d *U2RDetector) Features(source string, now time.Time) U2RFeatures {
	var f U2RFeatures
	for _, obs := range d.window.Snapshot(source, now) {
		if obs.Value.rootCommand {
			f.RootCommands++
		}
		if obs.Value.setuidAttempt {
			f.SetuidAttempts++
		}
		if obs.Value.bufferOverflow {
			f.BufferOverflows++
		}
		if obs.Value.suspiciousFile {
			f.SuspiciousFileAccess++
		}
	}
	return f
}

// Score applies the first matching rule only. A single overflow pattern is treated as
// high severity regardless of frequency.
func (d *U2RDetector) Score(source string, now time.Time) (AttackSignal, error) {
	f := d.Features(source, now)
	sig := AttackSignal{Category: CategoryU2R}

	switch {
	case f.RootCommands >= 3:
		sig.Score = min(1, float64(f.RootCommands)/10)
		sig.Active = true
		sig.Rule = "root_commands"
	case f.SetuidAttempts >= 2:
		sig.Score = min(1, float64(f.SetuidAttempts)/5)
		sig.Active = true
		sig.Rule = "setuid_attempts"
	case f.BufferOverflows >= 1:
		sig.Score = 0.8
		sig.Active = true
		sig.Rule = "buffer_overflow"
	case f.SuspiciousFileAccess >= 5:
		sig.Score = min(1, float64(f.SuspiciousFileAccess)/15)
		sig.Active = sig.Score > 0.3
		sig.Rule = "suspicious_file_access"
	}

	sig.Metrics = map[string]float64{
		"root_commands":          float64(f.RootCommands),
		"setuid_attempts":        float64(f.SetuidAttempts),
		"buffer_overflow":        float64(f.BufferOverflows),
		"suspicious_file_access": float64(f.SuspiciousFileAccess),
	}
	return checkSignal(sig)
}
