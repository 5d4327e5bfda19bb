// SPDX-License-Identifier: AGPL-3.0-only

package client

import "errors"

// ErrConnectionFailed is the error returned when the client cannot
// establish its connection to the hub.
var ErrConnectionFailed = errors.New("client: connection failed")
