package domain

import (
	"fmt"
	"slices"
	"strings"
)

// EventType is a Twitch EventSub subscription type.
type EventType string

const (
	EventStreamOnline  EventType = "stream.online"
	EventStreamOffline EventType = "stream.offline"
)

// streamUpAndDown is the event set every stream-driven feature depends on.
var streamUpAndDown = []EventType{EventStreamOnline, EventStreamOffline}

// Feature is an independently toggleable automation.
type Feature int

const (
	FeatureBanner Feature = iota + 1
	FeatureTwitterName
	FeatureProfileImage
	FeatureTweet
)

// AllFeatures lists every feature in a stable order.
var AllFeatures = []Feature{FeatureBanner, FeatureTwitterName, FeatureProfileImage, FeatureTweet}

func (f Feature) String() string {
	switch f {
	case FeatureBanner:
		return "banner"
	case FeatureTwitterName:
		return "twitterName"
	case FeatureProfileImage:
		return "profileImage"
	case FeatureTweet:
		return "tweet"
	default:
		return fmt.Sprintf("feature(%d)", int(f))
	}
}

// ParseFeature maps a feature name (as used in URLs and logs) back to a Feature.
// Matching is case-insensitive.
func ParseFeature(name string) (Feature, error) {
	for _, f := range AllFeatures {
		if strings.EqualFold(f.String(), name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

// RequiredEventTypes returns the EventSub types the feature needs to receive.
func (f Feature) RequiredEventTypes() []EventType {
	switch f {
	case FeatureBanner, FeatureTwitterName, FeatureProfileImage, FeatureTweet:
		return slices.Clone(streamUpAndDown)
	default:
		return nil
	}
}

// RequiredEventTypes returns the union of event types needed by the given features,
// in first-seen order.
func RequiredEventTypes(features []Feature) []EventType {
	var types []EventType
	for _, f := range features {
		for _, t := range f.RequiredEventTypes() {
			if !slices.Contains(types, t) {
				types = append(types, t)
			}
		}
	}
	return types
}
