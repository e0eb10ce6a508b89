package models

// BelongsTo reports whether pet is owned by the client.
// Every resource scoped to a pet goes through this check.
func BelongsTo(pet *Pet, clientID int64) bool {
	return pet != nil && clientID != 0 && pet.OwnerID == clientID
}
