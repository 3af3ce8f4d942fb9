package ziggurat

import (
	"errors"
	"strings"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
)

// benignRaceReasons is the closed set of contract revert codes that mean the
// party already advanced through another path before our action landed.
var benignRaceReasons = []string{
	"PartyAlreadyStarted",
	"PartyNotForming",
	"DoorAlreadyChosen",
	"PartyNotInRoom",
	"PartyEnded",
}

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
