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

/*
Package batch provides the primitive operations used to mutate the web element registry and the server backend.

A Change binds an OpCode to one kind of model. Changes are collected in a Batch while a single logical registration
is processed and are later replayed, strictly in insertion order, against any Visitor: the registry's own visitor
mutates the in-memory model, a backend visitor pushes the same changes into a running server. Every change knows
its inverse, which is how a partially applied Batch is compensated.
*/
package batch

// OpCode is the primitive operation a Change performs
type OpCode int

const (
	OpNone OpCode = iota
	OpAdd
	OpDelete
	OpEnable
	OpDisable
	OpAssociate
	OpDisassociate
	OpModify
)

func (op OpCode) String() string {
	switch op {
	case OpNone:
		return "NONE"
	case OpAdd:
		return "ADD"
	case OpDelete:
		return "DELETE"
	case OpEnable:
		return "ENABLE"
	case OpDisable:
		return "DISABLE"
	case OpAssociate:
		return "ASSOCIATE"
	case OpDisassociate:
		return "DISASSOCIATE"
	case OpModify:
		return "MODIFY"
	}
	return "UNKNOWN"
}

// Inverse returns the opcode that undoes op. OpNone has no inverse and OpModify is its own inverse as long as the
// change swaps its before/after state.
func (op OpCode) Inverse() (OpCode, bool) {
	switch op {
	case OpAdd:
		return OpDelete, true
	case OpDelete:
		return OpAdd, true
	case OpEnable:
		return OpDisable, true
	case OpDisable:
		return OpEnable, true
	case OpAssociate:
		return OpDisassociate, true
	case OpDisassociate:
		return OpAssociate, true
	case OpModify:
		return OpModify, true
	}
	return OpNone, false
}
