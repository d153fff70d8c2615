package vectorguard

import "time"

type loginObservation struct {
	port                 int
	failed               bool
	successAfterFailures bool
}

// BruteForceFeatures counts authentication activity inside the window.
type BruteForceFeatures struct {
	LoginAttempts        int
	FailedAttempts       int
	SuccessAfterFailures int
	TargetPorts          int
}

// BruteForceDetector flags repeated authentication attempts and logins that succeed after
// a run of failures.
type BruteForceDetector struct {
	window *SlidingWindow[loginObservation]
}

// NewBruteForceDetector tracks up to maxSources sources, keeping at most maxPerKey
// authentication events each.
func NewBruteForceDetector(window time.Duration, maxSources, maxPerKey int) *BruteForceDetector {
	return &BruteForceDetector{window: NewSlidingWindow[loginObservation](window, maxSources, maxPerKey)}
}

func (d *BruteForceDetector) Category() Category { return CategoryBruteForce }
func (d *BruteForceDetector) Window() time.Duration { return d.window.Window() }
func (d *BruteForceDetector) Forget(source string) { d.window.Forget(source) }
func (d *BruteForceDetector) Sources() int { return d.window.Len() }

// Record counts failures and post-failure successes as login attempts even when the
// caller did not flag the attempt itself.
func (d *BruteForceDetector) Record(ev Event, now time.Time) error {
	if !ev.LoginAttempt && !ev.LoginFailed && !ev.SuccessAfterFailures {
		d.window.Prune(ev.Source, now)
		return nil
	}
	obs := loginObservation{
		failed:               ev.LoginFailed,
		successAfterFailures: ev.SuccessAfterFailures,
	}
	if ev.HasPort() {
		obs.port = ev.DestinationPort
	}
	d.window.Record(ev.Source, now, obs)
	return nil
}

func (d *BruteForceDetector) Features(source string, now time.Time) BruteForceFeatures {
	var f BruteForceFeatures
	ports := make(map[int]struct{})
	for _, obs := range d.window.Snapshot(source, now) {
		f.LoginAttempts++
		if obs.Value.failed {
			f.FailedAttempts++
		}
		if obs.Value.successAfterFailures {
			f.SuccessAfterFailures++
		}
		if obs.Value.port > 0 {
			ports[obs.Value.port] = struct{}{}
		}
	}
	f.TargetPorts = len(ports)
	return f
}

// Score applies the first matching rule only. A success after failures is scored as a
// likely compromised credential.
func (d *BruteForceDetector) Score(source string, now time.Time) (AttackSignal, error) {
	f := d.Features(source, now)
	sig := AttackSignal{Category: CategoryBruteForce}

	failed := float64(f.FailedAttempts)
	total := float64(f.LoginAttempts)
	switch {
	case f.FailedAttempts >= 10:
		sig.Score = min(1, failed/50)
		sig.Active = true
		sig.Rule = "repeated_failures"
	case f.FailedAttempts >= 5 && f.LoginAttempts >= 8:
		sig.Score = min(1, (failed/total)*(failed/10))
		sig.Active = sig.Score > 0.4
		sig.Rule = "high_failure_rate"
	case f.SuccessAfterFailures >= 1 && f.FailedAttempts >= 3:
		sig.Score = 0.9
		sig.Active = true
		sig.Rule = "success_after_failures"
	case f.LoginAttempts >= 20:
		sig.Score = min(1, total/100)
		sig.Active = sig.Score > 0.3
		sig.Rule = "many_attempts"
	}

	sig.Metrics = map[string]float64{
		"login_attempts":         total,
		"failed_attempts":        failed,
		"success_after_failures": float64(f.SuccessAfterFailures),
		"target_ports":           float64(f.TargetPorts),
	}
	return checkSignal(sig)
}
