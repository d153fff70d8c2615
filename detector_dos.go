package vectorguard

import "time"

type floodObservation struct {
	destination string
	size        int
	syn         bool
}

// DoSFeatures summarises the live volumetric footprint of a source.
type DoSFeatures struct {
	Packets            int
	UniqueDestinations int
	SYNPackets         int
	PacketsPerSecond   float64
	BytesPerSecond     float64
	AvgPacketSize      float64
}

// DoSDetector flags volumetric, targeted and SYN floods from a single source.
type DoSDetector struct {
	window *SlidingWindow[floodObservation]
}

// NewDoSDetector tracks up to maxSources sources, keeping at most maxPerKey packets each.
func NewDoSDetector(window time.Duration, maxSources, maxPerKey int) *DoSDetector {
	return &DoSDetector{window: NewSlidingWindow[floodObservation](window, maxSources, maxPerKey)}
}

func (d *DoSDetector) Category() Category { return CategoryDoS }
func (d *DoSDetector) Window() time.Duration { return d.window.Window() }
func (d *DoSDetector) Forget(source string) { d.window.Forget(source) }
func (d *DoSDetector) Sources() int { return d.window.Len() }

func (d *DoSDetector) Record(ev Event, now time.Time) error {
	d.window.Record(ev.Source, now, floodObservation{
		destination: ev.Destination,
		size:        ev.PayloadSize,
		syn:         ev.SYN,
	})
	return nil
}

// Features computes rates over the span between the earliest and latest live packet.
func (d *DoSDetector) Features(source string, now time.Time) DoSFeatures {
	live := d.window.Snapshot(source, now)
	if len(live) == 0 {
		return DoSFeatures{}
	}

	dests := make(map[string]struct{})
	totalBytes := 0
	syn := 0
	for _, obs := range live {
		if obs.Value.destination != "" {
			dests[obs.Value.destination] = struct{}{}
		}
		totalBytes += obs.Value.size
		if obs.Value.syn {
			syn++
		}
	}

	first, last := observedSpan(live)
	rate := eventRate(len(live), first, last)
	return DoSFeatures{
		Packets:            len(live),
		UniqueDestinations: len(dests),
		SYNPackets:         syn,
		PacketsPerSecond:   rate,
		BytesPerSecond:     rate * float64(totalBytes) / float64(len(live)),
		AvgPacketSize:      float64(totalBytes) / float64(len(live)),
	}
}

// Score applies the first matching flood rule, then adds the small-packet bonus.
func (d *DoSDetector) Score(source string, now time.Time) (AttackSignal, error) {
	f := d.Features(source, now)
	sig := AttackSignal{Category: CategoryDoS}
	if f.Packets == 0 {
		return sig, nil
	}

	rate := f.PacketsPerSecond
	switch {
	case rate > 100:
		sig.Score = min(1, rate/1000)
		sig.Active = sig.Score > 0.5
		sig.Rule = "volumetric_flood"
	case rate > 50 && f.UniqueDestinations <= 3:
		// a flood whose destination was a placeholder still counts as one target
		dests := float64(max(f.UniqueDestinations, 1))
		sig.Score = min(1, (rate/200)*(3/dests))
		sig.Active = sig.Score > 0.4
		sig.Rule = "targeted_flood"
	case f.SYNPackets > 50 && rate > 20:
		sig.Score = min(1, (float64(f.SYNPackets)/100)*(rate/50))
		sig.Active = sig.Score > 0.5
		sig.Rule = "syn_flood"
	}

	if f.AvgPacketSize < 100 && rate > 30 {
		sig.Score = min(1, sig.Score+0.3)
		sig.Active = true
		if sig.Rule == "" {
			sig.Rule = "small_packet_flood"
		} else {
			sig.Rule += "+small_packet_flood"
		}
	}

	sig.Metrics = map[string]float64{
		"packets_per_second": rate,
		"bytes_per_second":   f.BytesPerSecond,
		"packet_count":       float64(f.Packets),
		"unique_dest_ips":    float64(f.UniqueDestinations),
		"syn_packets":        float64(f.SYNPackets),
		"avg_packet_size":    f.AvgPacketSize,
	}
	return checkSignal(sig)
}
