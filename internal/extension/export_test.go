// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

// PendingDisposers returns how many revocations deactivation of id would run.
func (h *Host) PendingDisposers(id string) int {
	rec, err := h.get(id)
	if err != nil {
		return -1
	}
	return rec.disposers.Len()
}
