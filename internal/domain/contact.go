package domain

// WorkerContactInfo is derived at notification time and never persisted.
type WorkerContactInfo struct {
	WorkerID    string
	ContactID   string
	DisplayName string
	Phone       string
	Email       string
	UserID      *string
}

func (c *WorkerContactInfo) HasPhone() bool { return c != nil && c.Phone != "" }

func (c *WorkerContactInfo) HasEmail() bool { return c != nil && c.Email != "" }

func (c *WorkerContactInfo) HasUser() bool {
	return c != nil && c.UserID != nil && *c.UserID != ""
}

// PhoneNumber is one number on a contact. The first active number wins, with
// primary numbers preferred over the rest.
type PhoneNumber struct {
	ID        string
	ContactID string
	Number    string
	IsPrimary bool
	IsActive  bool
}

// PickPhone returns the number to text: the first active primary number,
// otherwise the first active number. Input order is significant.
func PickPhone(numbers []PhoneNumber) string {
	fallback := ""
	for _, n := range numbers {
		if !n.IsActive || n.Number == "" {
			continue
		}
		if n.IsPrimary {
			return n.Number
		}
		if fallback == "" {
			fallback = n.Number
		}
	}
	return fallback
}
