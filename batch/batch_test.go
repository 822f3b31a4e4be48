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
	"errors"
	"testing"

	"github.com/openziti/xweb-registry/model"
	"github.com/stretchr/testify/require"
)

var _ Visitor = (*recordingVisitor)(nil)

type recordingVisitor struct {
	visited []Change
	failAt  int
}

func newRecordingVisitor() *recordingVisitor {
	return &recordingVisitor{failAt: -1}
}

func (v *recordingVisitor) record(c Change) error {
	if len(v.visited) == v.failAt {
		return errors.New("refused")
	}
	v.visited = append(v.visited, c)
	return nil
}

func (v *recordingVisitor) VisitServletContextModelChange(c *ServletContextModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitOsgiContextModelChange(c *OsgiContextModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitServletModelChange(c *ServletModelChange) error { return v.record(c) }
func (v *recordingVisitor) VisitFilterModelChange(c *FilterModelChange) error   { return v.record(c) }
func (v *recordingVisitor) VisitFilterStateChange(c *FilterStateChange) error   { return v.record(c) }
func (v *recordingVisitor) VisitErrorPageModelChange(c *ErrorPageModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitEventListenerModelChange(c *EventListenerModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitWelcomeFileModelChange(c *WelcomeFileModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitContainerInitializerModelChange(c *ContainerInitializerModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitWebSocketModelChange(c *WebSocketModelChange) error {
	return v.record(c)
}
func (v *recordingVisitor) VisitSecurityConstraintModelChange(c *SecurityConstraintModelChange) error {
	return v.record(c)
}

func newTestBatch() (*Batch, *model.ServletContextModel, *model.OsgiContextModel, *model.ServletModel) {
	scm := &model.ServletContextModel{Path: "/c1"}
	ocm := &model.OsgiContextModel{Name: "default", Owner: "b1", Path: "/c1"}
	servlet := &model.ServletModel{
		Element:      model.Element{Ranking: model.Ranking{ServiceID: 1}, Contexts: []*model.OsgiContextModel{ocm}},
		Name:         "s1",
		URLPatterns:  []string{"/s1"},
		ResourceBase: "/",
	}

	b := NewBatch("register s1")
	b.Add(
		&ServletContextModelChange{Op: OpAdd, Model: scm},
		&OsgiContextModelChange{Op: OpAdd, Model: ocm},
		&OsgiContextModelChange{Op: OpEnable, Model: ocm},
		NewElementModelChange(servlet, ElementChange{Op: OpAdd, Paths: []string{"/c1"}, Contexts: servlet.Contexts}),
	)
	return b, scm, ocm, servlet
}

func Test_Batch(t *testing.T) {
	t.Run("accept replays changes in insertion order", func(t *testing.T) {
		b, _, _, _ := newTestBatch()
		v := newRecordingVisitor()

		req := require.New(t)
		req.NoError(b.Accept(v))
		req.Equal(b.Changes(), v.visited)
		req.NotEmpty(b.ID())
	})

	t.Run("accept stops at the first failure and reports the index", func(t *testing.T) {
		b, _, _, _ := newTestBatch()
		v := newRecordingVisitor()
		v.failAt = 2

		err := b.Accept(v)

		req := require.New(t)
		req.Error(err)
		var acceptErr *AcceptError
		req.True(errors.As(err, &acceptErr))
		req.Equal(2, acceptErr.Index)
		req.Equal(b.Changes()[2], acceptErr.Change)
		req.Len(v.visited, 2)
		req.EqualError(errors.Unwrap(err), "refused")
	})

	t.Run("nil changes are not added", func(t *testing.T) {
		b := NewBatch("empty")
		b.Add(nil, nil)
		require.True(t, b.IsEmpty())
	})

	t.Run("uninstall inverts every change in reverse order", func(t *testing.T) {
		b, scm, ocm, servlet := newTestBatch()

		undo, skipped := b.Uninstall()

		req := require.New(t)
		req.Empty(skipped)
		changes := undo.Changes()
		req.Len(changes, 4)

		sc, ok := changes[0].(*ServletModelChange)
		req.True(ok)
		req.Equal(OpDelete, sc.Kind())
		req.Equal(servlet, sc.Model)
		req.Equal([]string{"/c1"}, sc.Paths)

		req.Equal(&OsgiContextModelChange{Op: OpDisable, Model: ocm}, changes[1])
		req.Equal(&OsgiContextModelChange{Op: OpDelete, Model: ocm}, changes[2])
		req.Equal(&ServletContextModelChange{Op: OpDelete, Model: scm}, changes[3])
	})

	t.Run("uninstall reports changes without an inverse", func(t *testing.T) {
		b := NewBatch("noop")
		b.Add(&ServletContextModelChange{Op: OpNone, Model: &model.ServletContextModel{Path: "/"}})

		undo, skipped := b.Uninstall()
		require.True(t, undo.IsEmpty())
		require.Len(t, skipped, 1)
	})

	t.Run("slice keeps identity and bounds", func(t *testing.T) {
		b, _, _, _ := newTestBatch()

		req := require.New(t)
		req.Equal(2, b.Slice(0, 2).Len())
		req.Equal(b.ID(), b.Slice(0, 2).ID())
		req.Equal(0, b.Slice(3, 1).Len())
		req.Equal(4, b.Slice(-1, 10).Len())
	})

	t.Run("pending context lookups honor later deletes", func(t *testing.T) {
		b, scm, ocm, _ := newTestBatch()

		req := require.New(t)
		req.Equal(scm, b.ServletContextModel("/c1"))
		req.Nil(b.ServletContextModel("/c2"))
		req.Equal(ocm, b.OsgiContextModel("default@b1"))

		b.Add(&ServletContextModelChange{Op: OpDelete, Model: scm})
		req.Nil(b.ServletContextModel("/c1"))
	})

	t.Run("merge appends", func(t *testing.T) {
		b1, _, _, _ := newTestBatch()
		b2, _, _, _ := newTestBatch()
		b1.Merge(b2)
		require.Equal(t, 8, b1.Len())
	})
}

func Test_Changes(t *testing.T) {
	t.Run("opcode inverses", func(t *testing.T) {
		pairs := map[OpCode]OpCode{
			OpAdd:          OpDelete,
			OpDelete:       OpAdd,
			OpEnable:       OpDisable,
			OpDisable:      OpEnable,
			OpAssociate:    OpDisassociate,
			OpDisassociate: OpAssociate,
			OpModify:       OpModify,
		}
		for op, expected := range pairs {
			inverse, ok := op.Inverse()
			require.True(t, ok, op.String())
			require.Equal(t, expected, inverse, op.String())
		}
		_, ok := OpNone.Inverse()
		require.False(t, ok)
	})

	t.Run("disabled add has no paths", func(t *testing.T) {
		ep := &model.ErrorPageModel{ErrorPages: []string{"404"}, Location: "/ep"}
		c := NewElementModelChange(ep, ElementChange{Op: OpAdd})

		req := require.New(t)
		req.True(c.Element().Disabled())
		req.Equal(ep, c.ElementModel())
		_, ok := c.(*ErrorPageModelChange)
		req.True(ok)
	})

	t.Run("association changes invert with the same context", func(t *testing.T) {
		ctx := &model.OsgiContextModel{Name: "shared", Shared: true, Path: "/"}
		l := &model.EventListenerModel{Listener: struct{}{}}
		c := NewElementModelChange(l, ElementChange{Op: OpDisassociate, Context: ctx})

		inverse, ok := c.Uninstall().(*EventListenerModelChange)
		require.True(t, ok)
		require.Equal(t, OpAssociate, inverse.Kind())
		require.Equal(t, ctx, inverse.Context)
	})

	t.Run("filter state change swaps chains", func(t *testing.T) {
		f1 := &model.FilterModel{Name: "f1"}
		f2 := &model.FilterModel{Name: "f2"}
		c := &FilterStateChange{
			Previous: map[string][]*model.FilterModel{"/c1": {f1}},
			Current:  map[string][]*model.FilterModel{"/c1": {f2, f1}},
		}

		inverse := c.Uninstall().(*FilterStateChange)
		require.Equal(t, c.Current, inverse.Previous)
		require.Equal(t, c.Previous, inverse.Current)
		require.Equal(t, "FilterStateChange{/c1=f2,f1}", c.String())
	})
}
