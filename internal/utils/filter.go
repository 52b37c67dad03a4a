package utils

func FilterArray[T any](input []T, predicate func(T) bool) []T {
	filtered := make([]T, 0, len(input))
	for _, item := range input {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func MapArray[T, U any](input []T, fn func(T) U) []U {
	mapped := make([]U, 0, len(input))
	for _, item := range input {
		mapped = append(mapped, fn(item))
	}
	return mapped
}
