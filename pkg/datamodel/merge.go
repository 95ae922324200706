package datamodel

// Top-level keys of the canonical session state
const (
	KeyDriverList             = "driverList"
	KeyTimingData             = "timingData"
	KeyTimingAppData          = "timingAppData"
	KeyPositionData           = "positionData"
	KeyCarData                = "carData"
	KeyTrackStatus            = "trackStatus"
	KeySessionInfo            = "sessionInfo"
	KeyWeatherData            = "weatherData"
	KeyRaceControlMessages    = "raceControlMessages"
	KeyTeamRadio              = "teamRadio"
	KeyTimingStats            = "timingStats"
	KeyChampionshipPrediction = "championshipPrediction"
	KeyLapCount               = "lapCount"
	KeyHeartbeat              = "heartbeat"
	KeyExtrapolatedClock      = "extrapolatedClock"
	KeyTopThree               = "topThree"

	// KeyLines holds the per-driver dictionary inside container keys
	KeyLines = "lines"
)

// CanonicalKeys lists every key the canonical state knows about
var CanonicalKeys = []string{
	KeyDriverList,
	KeyTimingData,
	KeyTimingAppData,
	KeyPositionData,
	KeyCarData,
	KeyTrackStatus,
	KeySessionInfo,
	KeyWeatherData,
	KeyRaceControlMessages,
	KeyTeamRadio,
	KeyTimingStats,
	KeyChampionshipPrediction,
	KeyLapCount,
	KeyHeartbeat,
	KeyExtrapolatedClock,
	KeyTopThree,
}

// Dictionaries keyed by driver number, entries are always sent whole
var keyedDictionaries = map[string]bool{
	KeyDriverList: true,
	KeyLines:      true,
	"drivers":     true,
}

// Objects carrying a keyed dictionary under "lines" next to regular fields
var containerKeys = map[string]bool{
	KeyTimingData:    true,
	KeyTimingAppData: true,
	KeyCarData:       true,
	KeyPositionData:  true,
	KeyTimingStats:   true,
}

// Lists the feed always resends in full
var wholeReplaceKeys = map[string]bool{
	KeyRaceControlMessages: true,
	KeyTeamRadio:           true,
}

// Merge combines base with update. parentKey is the key both values are stored under,
// the empty string denotes the root of the state.
//
// Merge never fails: shapes it does not expect fall through to replacing base with update.
func Merge(base, update Value, parentKey string) Value {
	if wholeReplaceKeys[parentKey] {
		return update
	}

	switch {
	case base.kind == KindObject && update.kind == KindObject:
		switch {
		case keyedDictionaries[parentKey]:
			return replaceEntries(base, update)
		case containerKeys[parentKey]:
			return mergeContainer(base, update)
		default:
			return mergeFields(base, update)
		}
	case base.kind == KindArray && update.kind == KindArray:
		arr := make([]Value, 0, len(base.arr)+len(update.arr))
		arr = append(arr, base.arr...)
		arr = append(arr, update.arr...)
		return wrapArray(arr)
	default:
		return update
	}
}

// mergeFields applies the default rule key by key
func mergeFields(base, update Value) Value {
	obj := make(map[string]Value, len(base.obj)+len(update.obj))
	for k, v := range base.obj {
		obj[k] = v
	}
	for k, v := range update.obj {
		existing, ok := base.obj[k]
		if !ok {
			obj[k] = v
			continue
		}
		obj[k] = Merge(existing, v, k)
	}
	return wrapObject(obj)
}

// replaceEntries swaps every entry present in update, untouched keys keep their value
func replaceEntries(base, update Value) Value {
	obj := make(map[string]Value, len(base.obj)+len(update.obj))
	for k, v := range base.obj {
		obj[k] = v
	}
	for k, v := range update.obj {
		obj[k] = v
	}
	return wrapObject(obj)
}

func mergeContainer(base, update Value) Value {
	obj := make(map[string]Value, len(base.obj)+len(update.obj))
	for k, v := range base.obj {
		obj[k] = v
	}
	for k, v := range update.obj {
		existing, ok := base.obj[k]
		switch {
		case !ok:
			obj[k] = v
		case k == KeyLines && existing.kind == KindObject && v.kind == KindObject:
			obj[k] = replaceEntries(existing, v)
		default:
			obj[k] = Merge(existing, v, k)
		}
	}
	return wrapObject(obj)
}

// MergeAll folds updates into base in order
func MergeAll(base Value, updates ...Value) Value {
	state := base
	for _, u := range updates {
		state = Merge(state, u, "")
	}
	return state
}
