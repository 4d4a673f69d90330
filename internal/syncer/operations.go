package syncer

import (
	"slices"
)

// OperationSet is a sync plan. Both lists are sorted.
type OperationSet struct {
	Transfer []string
	Delete   []string
}

func (o *OperationSet) Empty() bool {
	return len(o.Transfer) == 0 && len(o.Delete) == 0
}

func (o *OperationSet) Len() int {
	return len(o.Transfer) + len(o.Delete)
}

func (o *OperationSet) clone() *OperationSet {
	return &OperationSet{
		Transfer: slices.Clone(o.Transfer),
		Delete:   slices.Clone(o.Delete),
	}
}

// GetOperations diffs two key -> fingerprint maps. Keys missing from the
// destination or carrying a different fingerprint are transferred, keys
// only present in the destination are deleted.
func GetOperations(source, destination map[string]string) *OperationSet {
	ops := &OperationSet{
		Transfer: []string{},
		Delete:   []string{},
	}
	for key, tag := range source {
		if dst, ok := destination[key]; !ok || dst != tag {
			ops.Transfer = append(ops.Transfer, key)
		}
	}
	for key := range destination {
		if _, ok := source[key]; !ok {
			ops.Delete = append(ops.Delete, key)
		}
	}
	slices.Sort(ops.Transfer)
	slices.Sort(ops.Delete)
	return ops
}
