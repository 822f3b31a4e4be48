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

package xweb

import (
	"errors"
	"fmt"
)

var (
	ErrContainerStopped    = errors.New("web container has been stopped")
	ErrTransactionOpen     = errors.New("a transaction is already open for this context")
	ErrNoTransaction       = errors.New("no transaction is open for this context")
	ErrNotRegistered       = errors.New("not registered")
	ErrModelNotEmpty       = errors.New("server model already holds registrations")
	ErrInconsistentBackend = errors.New("server backend may be inconsistent with the model")
)

// ValidationError is returned when a registration is rejected before anything entered the model
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid registration: %s: %v", e.Reason, e.Err)
	}
	return "invalid registration: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NamespaceError is returned when an alias is already reserved by another registration in the same physical
// context. Unlike ranking conflicts this is never resolved by parking the registration.
type NamespaceError struct {
	Alias string
	Path  string
	Owner string
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("alias [%s] is already in use in context [%s] (registered by [%s])", e.Alias, e.Path, e.Owner)
}

// RollbackError is returned when a failed batch could not be compensated. Cause is the original failure, Err the
// rollback failure; both are reachable with errors.Is/As.
type RollbackError struct {
	BatchID string
	Cause   error
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of batch [%s] failed: %v (original failure: %v)", e.BatchID, e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Err, ErrInconsistentBackend}
}
