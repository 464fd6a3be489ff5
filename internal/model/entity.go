package model

import (
	"encoding/json"
	"time"
)

// Entity is a generic versioned row in the entities table. Kind tags the
// domain type ("order", "invoice", ...); Data holds the type-specific body.
// Version starts at 1 and bumps by exactly 1 on every successful update.
type Entity struct {
	ID        string          `db:"id"`
	Kind      string          `db:"kind"`
	Data      json.RawMessage `db:"data"`
	Version   int64           `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}
