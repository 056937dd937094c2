package memory

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Bucket is one persisted JSON payload of a snapshot. Users are stored under
// history id zero since they are shared by every history.
type Bucket struct {
	HistoryID int64
	Name      string
	Payload   []byte
}

// Bucket names used by the SQL-backed stores.
const (
	BucketHistory           = "history"
	BucketGrids             = "evaluation_grids"
	BucketCriteria          = "criteria"
	BucketSituations        = "situations"
	BucketGroups            = "groups"
	BucketGroupAssignments  = "group_assignments"
	BucketPlannings         = "plannings"
	BucketRoles             = "roles"
	BucketAppraisals        = "appraisals"
	BucketAppraisalCriteria = "appraisal_criteria"
	BucketFinalEvaluations  = "final_evaluations"
	BucketUsers             = "users"
)

// HistoryBuckets lists the buckets written for every history.
var HistoryBuckets = []string{
	BucketHistory,
	BucketGrids,
	BucketCriteria,
	BucketSituations,
	BucketGroups,
	BucketGroupAssignments,
	BucketPlannings,
	BucketRoles,
	BucketAppraisals,
	BucketAppraisalCriteria,
	BucketFinalEvaluations,
}

func historyTargets(h *HistorySnapshot) map[string]any {
	return map[string]any{
		BucketHistory:           &h.History,
		BucketGrids:             &h.Dataset.Grids,
		BucketCriteria:          &h.Dataset.Criteria,
		BucketSituations:        &h.Dataset.Situations,
		BucketGroups:            &h.Dataset.Groups,
		BucketGroupAssignments:  &h.Dataset.GroupAssignments,
		BucketPlannings:         &h.Dataset.Plannings,
		BucketRoles:             &h.Dataset.Roles,
		BucketAppraisals:        &h.UserData.Appraisals,
		BucketAppraisalCriteria: &h.UserData.AppraisalCriteria,
		BucketFinalEvaluations:  &h.UserData.FinalEvaluations,
	}
}

// EncodeBuckets flattens a snapshot into JSON buckets in a stable order.
func EncodeBuckets(snapshot Snapshot) ([]Bucket, error) {
	out := make([]Bucket, 0, len(snapshot.Histories)*len(HistoryBuckets)+1)
	users, err := json.Marshal(snapshot.Users)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketUsers, err)
	}
	out = append(out, Bucket{HistoryID: 0, Name: BucketUsers, Payload: users})
	for i := range snapshot.Histories {
		h := snapshot.Histories[i]
		targets := historyTargets(&h)
		for _, name := range HistoryBuckets {
			data, err := json.Marshal(targets[name])
			if err != nil {
				return nil, fmt.Errorf("encode history %d %s: %w", h.History.ID, name, err)
			}
			out = append(out, Bucket{HistoryID: h.History.ID, Name: name, Payload: data})
		}
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from persisted buckets. Unknown bucket
// names are ignored so older databases keep loading.
func DecodeBuckets(buckets []Bucket) (Snapshot, error) {
	var snapshot Snapshot
	byHistory := make(map[int64]*HistorySnapshot)
	var order []int64
	for _, b := range buckets {
		if len(b.Payload) == 0 {
			continue
		}
		if b.HistoryID == 0 {
			if b.Name == BucketUsers {
				if err := json.Unmarshal(b.Payload, &snapshot.Users); err != nil {
					return Snapshot{}, fmt.Errorf("decode %s: %w", BucketUsers, err)
				}
			}
			continue
		}
		h, ok := byHistory[b.HistoryID]
		if !ok {
			h = &HistorySnapshot{}
			byHistory[b.HistoryID] = h
			order = append(order, b.HistoryID)
		}
		target, ok := historyTargets(h)[b.Name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(b.Payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode history %d %s: %w", b.HistoryID, b.Name, err)
		}
	}
	slices.Sort(order)
	for _, id := range order {
		h := byHistory[id]
		if h.History.ID == 0 {
			h.History.ID = id
		}
		snapshot.Histories = append(snapshot.Histories, *h)
	}
	return snapshot, nil
}
