package bursar

import "github.com/xraph/bursar/id"

// ID is the primary identifier type for all bursar entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
