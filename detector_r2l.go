package vectorguard

import "time"

type accessObservation struct {
	destination       string
	failedLogin       bool
	privilegeAttempt  bool
	suspiciousCommand bool
}

// R2LFeatures counts remote-to-local indicators inside the window.
type R2LFeatures struct {
	FailedLogins       int
	PrivilegeAttempts  int
	SuspiciousCommands int
	UniqueDestinations int
}

// R2LDetector flags unauthorized remote access attempts. Only events carrying at least
// one indicator are retained, so floods cannot push indicators out of the window.
type R2LDetector struct {
	window *SlidingWindow[accessObservation]
}

func NewR2LDetector(window time.Duration, maxSources, maxPerKey int) *R2LDetector {
	return &R2LDetector{window: NewSlidingWindow[accessObservation](window, maxSources, maxPerKey)}
}

func (d *R2LDetector) Category() Category { return CategoryR2L }
func (d *R2LDetector) Window() time.Duration { return d.window.Window() }
func (d *R2LDetector) Forget(source string) { d.window.Forget(source) }
func (d *R2LDetector) Sources() int { return d.window.Len() }

// Record retains only events carrying a failed login, privilege attempt or suspicious
// command. Other events just expire old entries.
func (d *R2LDetector) Record(ev Event, now time.Time) error {
	if !ev.LoginFailed && !ev.PrivilegeAttempt && !ev.SuspiciousCommand {
		d.window.Prune(ev.Source, now)
		return nil
	}
	d.window.Record(ev.Source, now, accessObservation{
		destination:       ev.Destination,
		failedLogin:       ev.LoginFailed,
		privilegeAttempt:  ev.PrivilegeAttempt,
		suspiciousCommand: ev.SuspiciousCommand,
	})
	return nil
}

func (d *R2LDetector) Features(source string, now time.Time) R2LFeatures {
	var f R2LFeatures
	dests := make(map[string]struct{})
	for _, obs := range d.window.Snapshot(source, now) {
		if obs.Value.failedLogin {
			f.FailedLogins++
		}
		if obs.Value.privilegeAttempt {
			f.PrivilegeAttempts++
		}
		if obs.Value.suspiciousCommand {
			f.SuspiciousCommands++
		}
		if obs.Value.destination != "" {
			dests[obs.Value.destination] = struct{}{}
		}
	}
	f.UniqueDestinations = len(dests)
	return f
}

// Score applies the first matching rule only: failed logins, then privilege attempts,
// then suspicious commands.
func (d *R2LDetector) Score(source string, now time.Time) (AttackSignal, error) {
	f := d.Features(source, now)
	sig := AttackSignal{Category: CategoryR2L}

	switch {
	case f.FailedLogins >= 5:
		sig.Score = min(1, float64(f.FailedLogins)/20)
		sig.Active = sig.Score > 0.4
		sig.Rule = "failed_logins"
	case f.PrivilegeAttempts >= 3:
		sig.Score = min(1, float64(f.PrivilegeAttempts)/10)
		sig.Active = true
		sig.Rule = "privilege_attempts"
	case f.SuspiciousCommands >= 5:
		sig.Score = min(1, float64(f.SuspiciousCommands)/15)
		sig.Active = sig.Score > 0.3
		sig.Rule = "suspicious_commands"
	}

	sig.Metrics = map[string]float64{
		"failed_logins":       float64(f.FailedLogins),
		"privilege_attempts":  float64(f.PrivilegeAttempts),
		"suspicious_commands": float64(f.SuspiciousCommands),
		"unique_dest_ips":     float64(f.UniqueDestinations),
	}
	return checkSignal(sig)
}
