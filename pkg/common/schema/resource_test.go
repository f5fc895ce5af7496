/*
Copyright (c) 2023 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResourceType(t *testing.T) {
	testCases := []struct {
		in      string
		want    ResourceType
		wantErr bool
	}{
		{in: "ComputeVM", want: TypeComputeVM},
		{in: "storagefileshare", want: TypeStorageFileShare},
		{in: "KEYVAULT", want: TypeKeyVault},
		// virtual networks are never requested on their own
		{in: "VirtualNetwork", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseResourceType(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseComputeOS(t *testing.T) {
	os, err := ParseComputeOS("linux")
	assert.NoError(t, err)
	assert.Equal(t, OSLinux, os)

	os, err = ParseComputeOS("Windows")
	assert.NoError(t, err)
	assert.Equal(t, OSWindows, os)

	_, err = ParseComputeOS("plan9")
	assert.Error(t, err)
}

func TestParseServiceType(t *testing.T) {
	st, err := ParseServiceType("network")
	assert.NoError(t, err)
	assert.Equal(t, ServiceNetwork, st)

	_, err = ParseServiceType("Database")
	assert.Error(t, err)
}

func TestOperationStatus(t *testing.T) {
	assert.True(t, StatusOperationSucceeded.IsTerminal())
	assert.True(t, StatusOperationCancelled.IsTerminal())
	assert.False(t, StatusOperationInProgress.IsTerminal())
	assert.True(t, StatusOperationInProgress.IsSchedulable())
	assert.False(t, StatusOperationFailed.IsSchedulable())
}
