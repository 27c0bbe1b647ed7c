package inventory

// ProgressFunc recibe el avance (current, total) de una sincronización por lotes.
type ProgressFunc func(current, total int)
