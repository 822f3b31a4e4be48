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

package model

import (
	"fmt"
	"sort"
)

// Owner identifies the component that registered a model. The registry only compares owners for equality, it
// never looks inside them.
type Owner string

// Ranking orders models that contend for the same mapping. A higher Rank wins, equal ranks are decided in favor
// of the lower (older) ServiceID.
type Ranking struct {
	Rank      int
	ServiceID int64
}

// Outranks returns true if r is ordered before other.
func (r Ranking) Outranks(other Ranking) bool {
	if r.Rank != other.Rank {
		return r.Rank > other.Rank
	}
	return r.ServiceID < other.ServiceID
}

func (r Ranking) String() string {
	return fmt.Sprintf("rank=%d,id=%d", r.Rank, r.ServiceID)
}

// Ranked is anything carrying a Ranking
type Ranked interface {
	GetRanking() Ranking
}

// SortByRanking sorts best ranked first.
func SortByRanking[T Ranked](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].GetRanking().Outranks(items[j].GetRanking())
	})
}
