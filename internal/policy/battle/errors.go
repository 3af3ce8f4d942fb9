package battle

import (
	"errors"
	"strings"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
)

// benignRaceReasons is the closed set of contract revert codes that mean the
// desired state change already happened through another path: the contract
// advanced the turn, ended the game, or accepted an equivalent action before
// ours landed. These are success-equivalent; everything else is a real error.
var benignRaceReasons = []string{
	"TurnNotActive",
	"NotYourTurn",
	"TurnAlreadyEnded",
	"GameIsOver",
	"GameNotActive",
}

// isBenignRace reports whether the error is a recognized domain-state race.
// A reverted transaction receipt is also treated as benign: the action loop
// re-reads fresh state before deciding anything further, so a revert caused
// by a concurrent advance self-corrects on the next iteration.
func isBenignRace(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chain.ErrTxFailed) {
		return true
	}

	msg := err.Error()
	var statusErr *forwarder.RelayStatusError
	if errors.As(err, &statusErr) {
		msg = statusErr.Body
	}
	for _, reason := range benignRaceReasons {
		if strings.Contains(msg, reason) {
			return true
		}
	}
	return false
}
