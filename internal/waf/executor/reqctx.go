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

import (
	"time"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
)

// RequestContext is everything a defense/observation handler needs to
// inspect one request: the resolved per-request config (§4.F's
// EffectiveContext), the hot-cache snapshot it was resolved against (for
// handlers that need global state such as blocked-hash sets or fingerprint
// profiles), and the parsed form submission itself.
type RequestContext struct {
	Effective config.EffectiveContext
	Snapshot  *cache.Snapshot

	Form    map[string][]string // field name -> values, already UTF-8 sanitized
	Headers map[string][]string
	UserAgent string

	ClientIP string
	Now      time.Time
}
