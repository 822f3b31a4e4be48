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

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xweb-registry/batch"
	"github.com/openziti/xweb-registry/model"
	"github.com/sirupsen/logrus"
)

// ServerController is the boundary to a concrete server runtime. SendBatch must apply the changes in order and
// either apply all of them or report a failure. A failure that is a *batch.AcceptError tells how many changes
// were applied before it; any other error means nothing was applied.
type ServerController interface {
	Configure(config *InstanceConfig) error
	Start() error
	Stop() error
	SendBatch(b *batch.Batch) error
}

// Operation plans changes against the model into b. It must not mutate the model.
type Operation func(m *ServerModel, b *batch.Batch) error

// Execute runs ops as one transaction: each operation is planned and applied to the model in turn, the merged
// batch is then sent to controller. If an operation or the controller fails, everything applied so far is
// rolled back and the original error is returned. A failed rollback is returned as *RollbackError.
//
// Execute calls are serialized, so batches reach the controller in the order they were executed.
func (m *ServerModel) Execute(controller ServerController, description string, ops ...Operation) (*batch.Batch, error) {
	m.exec.Lock()
	defer m.exec.Unlock()

	result := batch.NewBatch(description)
	logger := pfxlog.Logger().WithFields(logrus.Fields{
		"batchId":     result.ID(),
		"description": description,
	})

	for _, op := range ops {
		sub := batch.NewBatch(description)
		if err := op(m, sub); err != nil {
			if rollbackErr := m.undoModel(result, logger); rollbackErr != nil {
				return nil, &RollbackError{BatchID: result.ID(), Cause: err, Err: rollbackErr}
			}
			return nil, err
		}
		if err := sub.Accept(m); err != nil {
			logger.WithError(err).Errorf("model refused its own changes: %s", sub)
			applied := appliedCount(err, 0)
			rollbackErr := errors.Join(m.undoModel(sub.Slice(0, applied), logger), m.undoModel(result, logger))
			if rollbackErr != nil {
				return nil, &RollbackError{BatchID: result.ID(), Cause: err, Err: rollbackErr}
			}
			return nil, err
		}
		result.Merge(sub)
	}

	if result.IsEmpty() {
		return result, nil
	}

	logger.Debugf("sending %s", result)
	if err := controller.SendBatch(result); err != nil {
		logger.WithError(err).Warn("server controller rejected batch, rolling back")
		return nil, m.rollback(controller, result, appliedCount(err, 0), err, logger)
	}
	return result, nil
}

// CleanBundle removes everything owner registered in a single batch. The model is always cleaned, controller
// failures are best effort: the changes after a failing one are still sent and all failures are returned
// together.
func (m *ServerModel) CleanBundle(controller ServerController, owner model.Owner) error {
	m.exec.Lock()
	defer m.exec.Unlock()

	b := batch.NewBatch("clean bundle " + string(owner))
	logger := pfxlog.Logger().WithFields(logrus.Fields{
		"batchId": b.ID(),
		"owner":   owner,
	})

	m.cleanBundle(b, owner)
	if b.IsEmpty() {
		return nil
	}
	if err := b.Accept(m); err != nil {
		logger.WithError(err).Errorf("model refused its own changes: %s", b)
		if rollbackErr := m.undoModel(b.Slice(0, appliedCount(err, 0)), logger); rollbackErr != nil {
			return &RollbackError{BatchID: b.ID(), Cause: err, Err: rollbackErr}
		}
		return err
	}

	var errs []error
	remaining := b
	for !remaining.IsEmpty() {
		err := controller.SendBatch(remaining)
		if err == nil {
			break
		}
		errs = append(errs, err)

		var acceptErr *batch.AcceptError
		if !errors.As(err, &acceptErr) {
			logger.WithError(err).Error("server controller failed to clean bundle")
			break
		}
		logger.WithError(err).Warnf("server controller failed to apply %s, continuing with remaining changes", acceptErr.Change)
		remaining = remaining.Slice(acceptErr.Index+1, remaining.Len())
	}
	return errors.Join(errs...)
}

// rollback compensates a batch the controller failed on: the applied prefix is undone in the controller, the
// whole batch is undone in the model.
func (m *ServerModel) rollback(controller ServerController, b *batch.Batch, applied int, cause error, logger *logrus.Entry) error {
	var rollbackErr error
	if applied > 0 {
		undo, skipped := b.Slice(0, applied).Uninstall()
		logSkipped(logger, skipped)
		if err := controller.SendBatch(undo); err != nil {
			rollbackErr = err
		}
	}
	rollbackErr = errors.Join(rollbackErr, m.undoModel(b, logger))

	if rollbackErr != nil {
		logger.WithError(rollbackErr).Errorf("rollback failed, server backend may be inconsistent with the model (original failure: %v)", cause)
		return &RollbackError{BatchID: b.ID(), Cause: cause, Err: rollbackErr}
	}
	logger.Infof("rolled back %d changes", b.Len())
	return cause
}

func (m *ServerModel) undoModel(b *batch.Batch, logger *logrus.Entry) error {
	if b.IsEmpty() {
		return nil
	}
	undo, skipped := b.Uninstall()
	logSkipped(logger, skipped)
	return undo.Accept(m)
}

func logSkipped(logger *logrus.Entry, skipped []batch.Change) {
	for _, c := range skipped {
		logger.Warnf("change %s has no inverse, rollback is incomplete", c)
	}
}

// appliedCount returns how many changes were applied before err, or def if err does not tell
func appliedCount(err error, def int) int {
	var acceptErr *batch.AcceptError
	if errors.As(err, &acceptErr) {
		return acceptErr.Index
	}
	return def
}
