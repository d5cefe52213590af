// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package ace

import (
	"context"
	"time"
)

// RunGCPeriodically triggers sm.GC() on a fixed interval until ctx is
// canceled. Spec section 1 treats the GC as an external collaborator
// ("An optional GC is triggered externally," spec section 5); this is
// the module's reference trigger, used by cmd/acedriver.
func RunGCPeriodically(ctx context.Context, sm *StateManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.GC()
		}
	}
}
