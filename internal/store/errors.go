package store

type NoEntryErr struct{}

func (e NoEntryErr) Error() string {
	return "[no entry found]"
}

type DuplicateEntryErr struct{}

func (e DuplicateEntryErr) Error() string {
	return "[duplicate entry]"
}
