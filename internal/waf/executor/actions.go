// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
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

package executor

import "encoding/json"

// parseTarpitDelay reads the tarpit action's delay_ms config (§3), default
// 2000ms when absent or malformed.
func parseTarpitDelay(cfg map[string]json.RawMessage) int {
	raw, ok := cfg["delay_ms"]
	if !ok {
		return 2000
	}
	var ms int
	if err := json.Unmarshal(raw, &ms); err != nil || ms < 0 {
		return 2000
	}
	return ms
}

// parseTarpitThen reads which action follows the tarpit delay (§3), default
// block.
func parseTarpitThen(cfg map[string]json.RawMessage) ActionKind {
	raw, ok := cfg["then"]
	if !ok {
		return ActionBlock
	}
	var then string
	if err := json.Unmarshal(raw, &then); err != nil || then == "" {
		return ActionBlock
	}
	return ActionKind(then)
}
