package scope

// LinkKind is the classification of an outgoing link, fixed at extraction time.
type LinkKind string

const (
	LinkInternal LinkKind = "internal"
	LinkExternal LinkKind = "external"
	LinkAsset    LinkKind = "asset"
)

// Rules defines which links a dive may follow.
type Rules struct {
	StayWithinBaseURL   bool
	FollowExternalLinks bool
	IncludeAssets       bool
	IncludePatterns     []string
	ExcludePatterns     []string
}
