/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package batch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openziti/xweb-registry/model"
)

// Batch is an ordered list of changes produced while processing one logical operation. It is a pure command list,
// replaying it has no effect beyond what the visitor does.
type Batch struct {
	id          string
	description string
	changes     []Change
}

// NewBatch creates an empty batch with a generated id
func NewBatch(description string) *Batch {
	return &Batch{
		id:          uuid.NewString(),
		description: description,
	}
}

func (b *Batch) ID() string {
	return b.id
}

func (b *Batch) Description() string {
	return b.description
}

// Add appends changes, nil changes are ignored
func (b *Batch) Add(changes ...Change) {
	for _, c := range changes {
		if c != nil {
			b.changes = append(b.changes, c)
		}
	}
}

// Merge appends all changes of other
func (b *Batch) Merge(other *Batch) {
	b.changes = append(b.changes, other.changes...)
}

// Changes returns a copy of the change list
func (b *Batch) Changes() []Change {
	return append([]Change(nil), b.changes...)
}

func (b *Batch) Len() int {
	return len(b.changes)
}

func (b *Batch) IsEmpty() bool {
	return len(b.changes) == 0
}

// Accept replays the changes against v in insertion order and stops at the first failure. The returned error is
// an *AcceptError telling how many changes were applied.
func (b *Batch) Accept(v Visitor) error {
	for i, c := range b.changes {
		if err := c.Accept(v); err != nil {
			return &AcceptError{
				BatchID: b.id,
				Index:   i,
				Change:  c,
				Err:     err,
			}
		}
	}
	return nil
}

// Slice returns a new batch with the changes [from, to). The new batch shares id and description.
func (b *Batch) Slice(from, to int) *Batch {
	if from < 0 {
		from = 0
	}
	if to > len(b.changes) {
		to = len(b.changes)
	}
	result := &Batch{id: b.id, description: b.description}
	if from < to {
		result.changes = append(result.changes, b.changes[from:to]...)
	}
	return result
}

// Uninstall builds the compensating batch: the inverse of every change, in reverse order. Changes without an
// inverse are skipped and returned so the caller can report that the rollback is incomplete.
func (b *Batch) Uninstall() (*Batch, []Change) {
	result := NewBatch("rollback of " + b.description)
	var skipped []Change
	for i := len(b.changes) - 1; i >= 0; i-- {
		if inverse := b.changes[i].Uninstall(); inverse != nil {
			result.changes = append(result.changes, inverse)
		} else {
			skipped = append(skipped, b.changes[i])
		}
	}
	return result, skipped
}

// ServletContextModel returns the physical context for path if this batch adds it and does not delete it again.
func (b *Batch) ServletContextModel(path string) *model.ServletContextModel {
	var result *model.ServletContextModel
	for _, c := range b.changes {
		if scc, ok := c.(*ServletContextModelChange); ok && scc.Model.Path == path {
			switch scc.Op {
			case OpAdd:
				result = scc.Model
			case OpDelete:
				result = nil
			}
		}
	}
	return result
}

// OsgiContextModel returns the logical context with id if this batch adds it and does not delete it again.
func (b *Batch) OsgiContextModel(id string) *model.OsgiContextModel {
	var result *model.OsgiContextModel
	for _, c := range b.changes {
		if occ, ok := c.(*OsgiContextModelChange); ok && occ.Model.ID() == id {
			switch occ.Op {
			case OpAdd:
				result = occ.Model
			case OpDelete:
				result = nil
			}
		}
	}
	return result
}

func (b *Batch) String() string {
	var parts []string
	for _, c := range b.changes {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("Batch{%s: %s}", b.description, strings.Join(parts, ", "))
}

// AcceptError reports the change a visitor failed on. Index is also the number of changes applied before it.
type AcceptError struct {
	BatchID string
	Index   int
	Change  Change
	Err     error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("batch [%s] failed at change %d (%s): %v", e.BatchID, e.Index, e.Change, e.Err)
}

func (e *AcceptError) Unwrap() error {
	return e.Err
}
