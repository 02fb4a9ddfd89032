// Package domain models drone detection observations and the incidents the
// aggregator derives from them.
//
// # Data Source
//
// Observations come from the silver layer, one row per detection. Upstream
// ingestion normalizes acoustic sensors, cameras, social media posts and
// manual reports into a shared shape: a UTC timestamp, a WGS-84 position with
// optional altitude, optional kinematics (speed, heading, course vector) and
// optional signal fields (strength, confidence, sensor type, detection
// source, classification). Any of the optional fields may be null.
//
// Source type inference:
//
//	detection_source: acoustic | optical | electromagnetic | human
//	sensor_type:      microphone | camera | radar | visual | manual
//	social posts:     twitter | x | reddit | social
//
//	An explicit source type wins, then detection_source, then sensor_type.
//	Unrecognized labels become "other". See [ParseSourceType].
//
// Photo events carry a confidence label instead of a number:
//
//	high → 0.9 | medium → 0.6 | low → 0.3
//
// # Clustering
//
// [ClusterObservations] is a greedy single pass over the batch sorted by
// timestamp then id. An observation joins the open cluster whose last member
// is at most TimeWindow earlier and SpatialThresholdKm away, picking the
// smallest gap/window + distance/threshold score (ties: smaller distance,
// then the older cluster). Clusters are capped at [MaxClusterSize] members
// and close as soon as they fill or age out. Membership is chained: each
// member is close to the one before it, not necessarily to every other.
//
// # Scoring
//
//	confidence = w1·min(n,5)/5 + w2·distinct/min(n,5) + w3·correlation
//
// correlation is 1 when two or more source types each contribute a member
// with signal confidence at or above the high-signal threshold. The risk
// score is the confidence plus the largest sensitive-zone boost, bucketed by
// [RiskThresholds]:
//
//	< 0.3 low | < 0.6 medium | < 0.85 high | otherwise critical
//
// # Summaries
//
// Every field except the summary is computed by [BuildIncident]. The summary
// is requested from a [SummaryGenerator] with a structured JSON prompt and
// parsed as newline-delimited JSON. A failed, slow or unparseable response is
// replaced by [TemplateSummary], so generation never drops an incident.
//
// # ID Generation
//
// Incident IDs are "inc-" plus the first 8 bytes of the SHA-256 of the sorted
// member observation ids joined with "|". Re-running over the same
// observations yields the same ids, which makes gold-layer inserts
// idempotent (ON CONFLICT DO NOTHING). See [IncidentID].
package domain
