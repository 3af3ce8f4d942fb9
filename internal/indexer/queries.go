package indexer

import (
	"context"
	"strings"
)

// Battle is the denormalized battle row the index exposes.
type Battle struct {
	Address       string `json:"address"`
	Operator      string `json:"operator"`
	GameState     uint8  `json:"gameState"`
	CurrentTeam   uint8  `json:"currentTeam"`
	TurnEndsAt    int64  `json:"turnEndsAt"`
	GameStartedAt int64  `json:"gameStartedAt"`
	Winner        *uint8 `json:"winner"`
}

// Party is the denormalized dungeon party row.
type Party struct {
	Ziggurat  string `json:"ziggurat"`
	PartyID   string `json:"partyId"`
	Owner     string `json:"owner"`
	State     uint8  `json:"state"`
	Size      uint8  `json:"size"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt"`
}

// Character is a character-in-battle row.
type Character struct {
	Battle   string `json:"battle"`
	PlayerID uint8  `json:"playerId"`
	Team     uint8  `json:"team"`
	Operator string `json:"operator"`
}

const battlesByOperatorQuery = `
query BattlesByOperator($operator: String!, $skip: Int!, $first: Int!) {
  battles(where: { operator: $operator, gameState_lt: 2 }, skip: $skip, first: $first) {
    items {
      address
      operator
      gameState
      currentTeam
      turnEndsAt
      gameStartedAt
      winner
    }
  }
}`

const battleByAddressQuery = `
query BattleByAddress($address: String!) {
  battles(where: { address: $address }, first: 1) {
    items {
      address
      operator
      gameState
      currentTeam
      turnEndsAt
      gameStartedAt
      winner
    }
  }
}`

const partiesByOwnerQuery = `
query PartiesByOwner($owner: String!, $skip: Int!, $first: Int!) {
  parties(where: { owner: $owner, state_lt: 2 }, skip: $skip, first: $first) {
    items {
      ziggurat
      partyId
      owner
      state
      size
      startedAt
      endedAt
    }
  }
}`

const charactersInBattleQuery = `
query CharactersInBattle($battle: String!, $operator: String!) {
  characters(where: { battle: $battle, operator: $operator }, first: 100) {
    items {
      battle
      playerId
      team
      operator
    }
  }
}`

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// BattlesByOperator pages through all unfinished battles operated by the
// given identity.
func (c *Client) BattlesByOperator(ctx context.Context, operator string) ([]Battle, error) {
	var all []Battle
	for skip := 0; ; skip += c.cfg.PageSize {
		var data struct {
			Battles itemsEnvelope[Battle] `json:"battles"`
		}
		vars := map[string]any{
			"operator": strings.ToLower(operator),
			"skip":     skip,
			"first":    c.cfg.PageSize,
		}
		if err := c.query(ctx, battlesByOperatorQuery, vars, &data); err != nil {
			return nil, err
		}
		all = append(all, data.Battles.Items...)
		if len(data.Battles.Items) < c.cfg.PageSize {
			return all, nil
		}
	}
}

// BattleByAddress fetches a single battle row. Returns (nil, nil) when the
// index does not know the battle yet; callers fall back to chain reads.
func (c *Client) BattleByAddress(ctx context.Context, address string) (*Battle, error) {
	var data struct {
		Battles itemsEnvelope[Battle] `json:"battles"`
	}
	vars := map[string]any{"address": strings.ToLower(address)}
	if err := c.query(ctx, battleByAddressQuery, vars, &data); err != nil {
		return nil, err
	}
	if len(data.Battles.Items) == 0 {
		return nil, nil
	}
	return &data.Battles.Items[0], nil
}

// PartiesByOwner pages through all unfinished parties owned by the identity.
func (c *Client) PartiesByOwner(ctx context.Context, owner string) ([]Party, error) {
	var all []Party
	for skip := 0; ; skip += c.cfg.PageSize {
		var data struct {
			Parties itemsEnvelope[Party] `json:"parties"`
		}
		vars := map[string]any{
			"owner": strings.ToLower(owner),
			"skip":  skip,
			"first": c.cfg.PageSize,
		}
		if err := c.query(ctx, partiesByOwnerQuery, vars, &data); err != nil {
			return nil, err
		}
		all = append(all, data.Parties.Items...)
		if len(data.Parties.Items) < c.cfg.PageSize {
			return all, nil
		}
	}
}

// CharactersInBattle lists the operator's characters in one battle.
func (c *Client) CharactersInBattle(ctx context.Context, battle, operator string) ([]Character, error) {
	var data struct {
		Characters itemsEnvelope[Character] `json:"characters"`
	}
	vars := map[string]any{
		"battle":   strings.ToLower(battle),
		"operator": strings.ToLower(operator),
	}
	if err := c.query(ctx, charactersInBattleQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.Characters.Items, nil
}
