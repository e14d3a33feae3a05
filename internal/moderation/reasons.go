package moderation

// Valid report reasons.
const (
	ReasonInappropriateLanguage = "inappropriate_language"
	ReasonSpam                  = "spam"
	ReasonOffensiveBehavior     = "offensive_behavior"
	ReasonThreatening           = "threatening"
	ReasonInappropriateVideo    = "inappropriate_video"
	ReasonOther                 = "other"
)

// validReasons is the set of allowed reason values.
var validReasons = map[string]bool{
	ReasonInappropriateLanguage: true,
	ReasonSpam:                  true,
	ReasonOffensiveBehavior:     true,
	ReasonThreatening:           true,
	ReasonInappropriateVideo:    true,
	ReasonOther:                 true,
}

// ValidReason reports whether reason is one of the accepted report reasons.
func ValidReason(reason string) bool {
	return validReasons[reason]
}
