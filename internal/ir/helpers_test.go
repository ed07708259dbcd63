package ir

func mustMarshalCanonical(v Value) []byte {
	b, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

func mustEventID(kind, opID string, unixTimestamp int64, payload Object) string {
	id, err := EventID(kind, opID, unixTimestamp, payload)
	if err != nil {
		panic(err)
	}
	return id
}
