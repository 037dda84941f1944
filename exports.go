package bursar

import "github.com/xraph/bursar/types"

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	INR  = types.INR
	Zero = types.Zero
	Sum  = types.Sum
)
