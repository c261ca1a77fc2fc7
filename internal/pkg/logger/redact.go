package logger

// MaskCustomerID masks a customer identifier for safe logging.
// "64a1f2c3d4e5f60718293a4b" becomes "64a1***3a4b".
// Identifiers of 8 characters or fewer are fully masked.
func MaskCustomerID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:4] + "***" + id[len(id)-4:]
}
