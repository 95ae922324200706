package worker

import (
	"strconv"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
)

// ExtractTimingSamples returns one sample per driver whose gap, leader gap, lap time or
// sectors were part of diff. Fields missing from the diff are filled from diff.Previous,
// since the merge replaces a driver's line as a whole.
func ExtractTimingSamples(diff statecache.Diff) []shared.TimingSample {
	lines, ok := diff.Updates.Path(datamodel.KeyTimingData, datamodel.KeyLines)
	if !ok || !lines.IsObject() {
		return nil
	}

	var samples []shared.TimingSample
	for _, nr := range lines.Keys() {
		update, _ := lines.Get(nr)
		if !update.IsObject() {
			continue
		}
		current, _ := diff.Previous.Path(datamodel.KeyTimingData, datamodel.KeyLines, nr)

		gap, hasGap := nestedString(update, "intervalToPositionAhead", "value")
		if !hasGap {
			gap, _ = nestedString(current, "intervalToPositionAhead", "value")
		}
		leaderGap, hasLeaderGap := scalarOrValue(update, "gapToLeader")
		if !hasLeaderGap {
			leaderGap, _ = scalarOrValue(current, "gapToLeader")
		}
		laptime, hasLaptime := nestedString(update, "lastLapTime", "value")
		if !hasLaptime {
			laptime, _ = nestedString(current, "lastLapTime", "value")
		}

		hasSector := false
		var sectorMs [3]int64
		for i := 0; i < 3; i++ {
			s, ok := sectorValue(update, i)
			if ok {
				hasSector = true
			} else {
				s, _ = sectorValue(current, i)
			}
			sectorMs[i] = ParseSector(s)
		}

		if !hasGap && !hasLeaderGap && !hasLaptime && !hasSector {
			continue
		}

		samples = append(samples, shared.TimingSample{
			DriverNumber: nr,
			Lap:          lapOf(update, current),
			GapMs:        ParseGap(gap),
			LeaderGapMs:  ParseGap(leaderGap),
			LapTimeMs:    ParseLaptime(laptime),
			Sector1Ms:    sectorMs[0],
			Sector2Ms:    sectorMs[1],
			Sector3Ms:    sectorMs[2],
			CapturedAt:   diff.Timestamp,
		})
	}
	return samples
}

// ExtractTireRecords returns the current stint of every driver whose stint compound or lap
// count was part of diff. Records without a compound are skipped.
func ExtractTireRecords(diff statecache.Diff) []shared.TireRecord {
	lines, ok := diff.Updates.Path(datamodel.KeyTimingAppData, datamodel.KeyLines)
	if !ok || !lines.IsObject() {
		return nil
	}

	var records []shared.TireRecord
	for _, nr := range lines.Keys() {
		update, _ := lines.Get(nr)
		stints, ok := update.Get("stints")
		if !ok {
			continue
		}
		index, updated, ok := lastElement(stints)
		if !ok {
			continue
		}
		compound, hasCompound := nestedString(updated, "compound")
		laps, hasLaps := nestedInt(updated, "totalLaps")
		if !hasCompound && !hasLaps {
			continue
		}

		if known, ok := diff.Previous.Path(datamodel.KeyTimingAppData, datamodel.KeyLines, nr, "stints"); ok {
			if stint, ok := element(known, index); ok {
				if !hasCompound {
					compound, _ = nestedString(stint, "compound")
				}
				if !hasLaps {
					laps, _ = nestedInt(stint, "totalLaps")
				}
			}
		}
		if compound == "" {
			continue
		}

		timing, _ := diff.State.Path(datamodel.KeyTimingData, datamodel.KeyLines, nr)
		previousTiming, _ := diff.Previous.Path(datamodel.KeyTimingData, datamodel.KeyLines, nr)
		records = append(records, shared.TireRecord{
			DriverNumber: nr,
			Lap:          lapOf(timing, previousTiming),
			Compound:     compound,
			LapsOnTire:   laps,
			CapturedAt:   diff.Timestamp,
		})
	}
	return records
}

func lapOf(update, current datamodel.Value) *int64 {
	if lap, ok := nestedInt(update, "numberOfLaps"); ok {
		return &lap
	}
	if lap, ok := nestedInt(current, "numberOfLaps"); ok {
		return &lap
	}
	return nil
}

func nestedString(v datamodel.Value, keys ...string) (string, bool) {
	field, ok := v.Path(keys...)
	if !ok {
		return "", false
	}
	return field.AsString()
}

func nestedInt(v datamodel.Value, keys ...string) (int64, bool) {
	field, ok := v.Path(keys...)
	if !ok {
		return 0, false
	}
	return field.AsInt()
}

// gapToLeader is sent as a plain string in races and as {"value": ...} in some sessions
func scalarOrValue(v datamodel.Value, key string) (string, bool) {
	field, ok := v.Get(key)
	if !ok {
		return "", false
	}
	if field.IsObject() {
		return nestedString(field, "value")
	}
	return field.AsString()
}

// sectors arrive as an array in full snapshots and as an index-keyed object in updates
func sectorValue(line datamodel.Value, index int) (string, bool) {
	sectors, ok := line.Get("sectors")
	if !ok {
		return "", false
	}
	var sector datamodel.Value
	if sectors.IsArray() {
		sector, ok = sectors.Index(index)
	} else {
		sector, ok = sectors.Get(strconv.Itoa(index))
	}
	if !ok {
		return "", false
	}
	return nestedString(sector, "value")
}

// lastElement returns the highest index of an array or index-keyed object and its element
func lastElement(list datamodel.Value) (int, datamodel.Value, bool) {
	if list.IsArray() {
		if list.Len() == 0 {
			return -1, datamodel.Null, false
		}
		v, ok := list.Index(list.Len() - 1)
		return list.Len() - 1, v, ok
	}
	if !list.IsObject() {
		return -1, datamodel.Null, false
	}

	best := -1
	for _, k := range list.Keys() {
		i, err := strconv.Atoi(k)
		if err == nil && i > best {
			best = i
		}
	}
	if best < 0 {
		return -1, datamodel.Null, false
	}
	v, ok := list.Get(strconv.Itoa(best))
	return best, v, ok
}

func element(list datamodel.Value, index int) (datamodel.Value, bool) {
	if list.IsArray() {
		return list.Index(index)
	}
	return list.Get(strconv.Itoa(index))
}
