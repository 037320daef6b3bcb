// Package idgen mints account and entry identifiers.
package idgen

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ErrInvalidNode reports a node id outside the snowflake node range.
var ErrInvalidNode = errors.New("invalid snowflake node")

// Generator issues random UUID account ids and time-ordered snowflake entry ids.
type Generator struct {
	nextAccount func() (uuid.UUID, error)
	nextEntry   func() int64
}

// New builds a Generator for the given node. Every running process needs its own node id.
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}
	return &Generator{
		nextAccount: uuid.NewRandom,
		nextEntry:   func() int64 { return node.Generate().Int64() },
	}, nil
}

// NewAccountID returns a random account id.
func (generator *Generator) NewAccountID() (loyalty.AccountID, error) {
	raw, err := generator.nextAccount()
	if err != nil {
		return loyalty.AccountID{}, fmt.Errorf("idgen: account id: %w", err)
	}
	return loyalty.NewAccountID(raw.String())
}

// NewEntryID returns the next entry id. Ids from one node are strictly increasing.
func (generator *Generator) NewEntryID() (loyalty.EntryID, error) {
	entryID, err := loyalty.NewEntryID(generator.nextEntry())
	if err != nil {
		return loyalty.EntryID{}, fmt.Errorf("idgen: entry id: %w", err)
	}
	return entryID, nil
}
