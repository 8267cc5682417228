//go:build !linux && !darwin

package app

import "hddbrowser/internal/domain"

func capacity([]domain.Root) []DeviceCapacity {
	return []DeviceCapacity{}
}
