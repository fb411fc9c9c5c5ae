// CC2 Provisioner
// Copyright (c) 2025 The CC2 Provisioner Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CC2 Provisioner.
//
// CC2 Provisioner is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CC2 Provisioner is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CC2 Provisioner.  If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"errors"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/cannatrols/cc2-provisioner/pkg/testing/mocks"
	"github.com/stretchr/testify/mock"
)

// ErrToolMissing is what NewMissingToolsExecutor returns for every call.
var ErrToolMissing = errors.New("executable file not found in $PATH")

// NewMissingToolsExecutor creates a MockCommandExecutor on which every
// command fails as if it were not installed. Tests that only care about
// one command can add their own On() expectations first; testify matches
// expectations in the order they were added.
//
//	exec := &mocks.MockCommandExecutor{}
//	exec.On("Capture", mock.Anything, "esptool", mock.Anything).Return(command.Captured{}, nil)
//	helpers.AddMissingTools(exec)
func NewMissingToolsExecutor() *mocks.MockCommandExecutor {
	return AddMissingTools(&mocks.MockCommandExecutor{})
}

// AddMissingTools adds catch-all failing expectations to exec.
func AddMissingTools(exec *mocks.MockCommandExecutor) *mocks.MockCommandExecutor {
	exec.On("Run", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(ErrToolMissing).Maybe()
	exec.On("Output", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, ErrToolMissing).Maybe()
	exec.On("Capture", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(command.Captured{}, ErrToolMissing).Maybe()
	return exec
}
