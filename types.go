package blastradius

import (
	"github.com/jward/blastradius/internal/detect"
	"github.com/jward/blastradius/internal/impact"
	"github.com/jward/blastradius/internal/store"
)

// Public type aliases for internal types used in the Engine and
// QueryBuilder API.

type Body = store.Body
type Endpoint = store.Endpoint
type Router = detect.Router
type Detector = detect.Detector
type Impact = impact.Result
type ImpactEntry = impact.Entry
