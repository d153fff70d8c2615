package vectorguard

import (
	"sort"
	"time"
)

type probeObservation struct {
	destination string
	port        int
	protocol    Protocol
}

// PortScanFeatures summarises the live reconnaissance footprint of a source.
type PortScanFeatures struct {
	Packets            int
	UniquePorts        int
	UniqueDestinations int
	PacketsPerSecond   float64
	PortScanRate       float64
	SequentialScore    float64
}

// PortScanDetector flags sources touching many ports quickly or in ascending order.
type PortScanDetector struct {
	window *SlidingWindow[probeObservation]
}

// NewPortScanDetector tracks up to maxSources sources, keeping at most maxPerKey probes each.
func NewPortScanDetector(window time.Duration, maxSources, maxPerKey int) *PortScanDetector {
	return &PortScanDetector{window: NewSlidingWindow[probeObservation](window, maxSources, maxPerKey)}
}

func (d *PortScanDetector) Category() Category { return CategoryProbe }
func (d *PortScanDetector) Window() time.Duration { return d.window.Window() }
func (d *PortScanDetector) Forget(source string) { d.window.Forget(source) }
func (d *PortScanDetector) Sources() int { return d.window.Len() }

// Record keeps every event; events without a valid port still count toward the rate.
func (d *PortScanDetector) Record(ev Event, now time.Time) error {
	obs := probeObservation{destination: ev.Destination, protocol: ev.Protocol}
	if ev.HasPort() {
		obs.port = ev.DestinationPort
	}
	d.window.Record(ev.Source, now, obs)
	return nil
}

// Features computes the current feature set for source.
func (d *PortScanDetector) Features(source string, now time.Time) PortScanFeatures {
	live := d.window.Snapshot(source, now)
	if len(live) == 0 {
		return PortScanFeatures{}
	}

	ports := make(map[int]struct{})
	dests := make(map[string]struct{})
	var sequence []int
	for _, obs := range live {
		if obs.Value.destination != "" {
			dests[obs.Value.destination] = struct{}{}
		}
		if obs.Value.port > 0 {
			ports[obs.Value.port] = struct{}{}
			sequence = append(sequence, obs.Value.port)
		}
	}

	first, last := observedSpan(live)
	span := last.Sub(first).Seconds()
	if span < 1 {
		span = 1
	}
	return PortScanFeatures{
		Packets:            len(live),
		UniquePorts:        len(ports),
		UniqueDestinations: len(dests),
		PacketsPerSecond:   eventRate(len(live), first, last),
		PortScanRate:       float64(len(ports)) / span,
		SequentialScore:    sequentialScore(sequence),
	}
}

// Score applies the first matching scan rule, then adds the sequential-port bonus.
func (d *PortScanDetector) Score(source string, now time.Time) (AttackSignal, error) {
	f := d.Features(source, now)
	sig := AttackSignal{Category: CategoryProbe}
	if f.Packets == 0 {
		return sig, nil
	}

	ports := float64(f.UniquePorts)
	rate := f.PacketsPerSecond
	switch {
	case f.UniquePorts >= 10 && rate > 5:
		sig.Score = min(1, (ports/100)*(rate/50))
		sig.Active = sig.Score > 0.3
		sig.Rule = "wide_fast_scan"
	case f.UniquePorts >= 5 && rate > 10:
		sig.Score = min(1, (ports/50)*(rate/100))
		sig.Active = sig.Score > 0.2
		sig.Rule = "aggressive_scan"
	case f.UniquePorts >= 20:
		sig.Score = min(1, ports/200)
		sig.Active = sig.Score > 0.4
		sig.Rule = "slow_wide_scan"
	}

	if f.SequentialScore > 0.5 {
		sig.Score = min(1, sig.Score+0.2)
		sig.Active = true
		if sig.Rule == "" {
			sig.Rule = "sequential_ports"
		} else {
			sig.Rule += "+sequential_ports"
		}
	}

	sig.Metrics = map[string]float64{
		"unique_ports":       ports,
		"unique_dest_ips":    float64(f.UniqueDestinations),
		"packets_per_second": rate,
		"port_scan_rate":     f.PortScanRate,
		"sequential_score":   f.SequentialScore,
	}
	return checkSignal(sig)
}

// sequentialScore is the fraction of adjacent sorted ports differing by exactly one.
// Fewer than five port observations never count as a sequence.
func sequentialScore(ports []int) float64 {
	if len(ports) < 5 {
		return 0
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)
	sequential := 0
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i+1]-sorted[i] == 1 {
			sequential++
		}
	}
	return float64(sequential) / float64(len(sorted)-1)
}
