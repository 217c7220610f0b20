package domain

// Level is the 1-5 severity tier of a buy. Level 0 means "too small, drop".
type Level int

// Buy size thresholds in SOL. A buy below MinBuySol is never emitted.
const (
	MinBuySol = 0.1
	level2Sol = 0.5
	level3Sol = 1
	level4Sol = 5
	level5Sol = 10
)

// LevelFor maps a SOL-denominated buy amount to its severity level.
// NaN and negative amounts map to 0.
func LevelFor(amountSol float64) Level {
	switch {
	case !(amountSol >= MinBuySol):
		return 0
	case amountSol < level2Sol:
		return 1
	case amountSol < level3Sol:
		return 2
	case amountSol < level4Sol:
		return 3
	case amountSol < level5Sol:
		return 4
	default:
		return 5
	}
}
