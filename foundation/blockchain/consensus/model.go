package consensus

import (
	"maps"
	"slices"
	"time"
)

// Profile is the behavior pattern kept for every user the engine has seen.
type Profile struct {
	UserID             string         `json:"userId"`
	ActionFrequency    map[string]int `json:"actionFrequency"`
	SessionDuration    time.Duration  `json:"sessionDuration"`
	InteractionQuality float64        `json:"interactionQuality"`
	TrustScore         float64        `json:"trustScore"`
	LastActive         time.Time      `json:"lastActive"`
	PredictedActions   []string       `json:"predictedActions"`
}

// clone returns a deep copy of the profile.
func (p Profile) clone() Profile {
	p.ActionFrequency = maps.Clone(p.ActionFrequency)
	p.PredictedActions = slices.Clone(p.PredictedActions)
	return p
}

// totalActions returns the number of actions recorded for the user.
func (p Profile) totalActions() int {
	var total int
	for _, n := range p.ActionFrequency {
		total += n
	}
	return total
}

// Decision is the outcome of a block validation. Decisions are appended to
// the history and never changed.
type Decision struct {
	BlockHash        string   `json:"blockHash"`
	IsValid          bool     `json:"isValid"`
	Confidence       float64  `json:"confidence"`
	Reasoning        []string `json:"reasoning"`
	RewardAdjustment float64  `json:"rewardAdjustment"`
	Timestamp        int64    `json:"timestamp"`
}

// ActionValidation is the outcome of a user action validation.
type ActionValidation struct {
	ActionType        string   `json:"actionType"`
	UserID            string   `json:"userId"`
	IsGenuine         bool     `json:"isGenuine"`
	Confidence        float64  `json:"confidence"`
	RiskScore         float64  `json:"riskScore"`
	RecommendedReward float64  `json:"recommendedReward"`
	Flags             []string `json:"flags"`
}

// NetworkMetrics are the aggregate figures maintained by the engine.
type NetworkMetrics struct {
	TotalUsers         int     `json:"totalUsers"`
	AverageHashRate    float64 `json:"averageHashRate"`
	NetworkHealth      float64 `json:"networkHealth"`
	ConsensusAccuracy  float64 `json:"consensusAccuracy"`
	RewardEfficiency   float64 `json:"rewardEfficiency"`
	FraudDetectionRate float64 `json:"fraudDetectionRate"`
}

// UserSummary describes a user in the insights.
type UserSummary struct {
	UserID             string  `json:"userId"`
	TrustScore         float64 `json:"trustScore"`
	InteractionQuality float64 `json:"interactionQuality"`
}

// Insights summarizes what the engine has learned.
type Insights struct {
	TopUsers             []UserSummary `json:"topUsers"`
	FraudulentActions    int           `json:"fraudulentActions"`
	NetworkOptimizations []string      `json:"networkOptimizations"`
	PredictedTrends      []string      `json:"predictedTrends"`
	LearnedPatterns      int           `json:"learnedPatterns"`
}
