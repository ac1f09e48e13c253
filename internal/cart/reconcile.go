package cart

// Reconcile merges a server snapshot with the intents that are still
// held locally. A pending intent always wins over the server row for its
// key, so a late-arriving snapshot can never regress an unconfirmed
// edit: desired quantity zero removes the row outright, any other
// desired quantity replaces the server row with the intent's item shape.
// Keys without intents adopt the server row as-is.
func Reconcile(serverItems []LineItem, intents []Intent) []LineItem {
	byKey := make(map[string]Intent, len(intents))
	for _, intent := range intents {
		byKey[intent.Key] = intent
	}

	result := make([]LineItem, 0, len(serverItems)+len(intents))
	seen := make(map[string]struct{}, len(serverItems))

	for _, row := range serverItems {
		item := NormalizeItem(row)
		if item.Quantity == 0 {
			continue
		}
		if _, dup := seen[item.Key]; dup {
			continue
		}
		seen[item.Key] = struct{}{}

		intent, ok := byKey[item.Key]
		if !ok {
			result = append(result, item)
			continue
		}
		if intent.DesiredQty == 0 {
			continue
		}
		override := NormalizeItem(intent.Item)
		override.Quantity = intent.DesiredQty
		result = append(result, override)
	}

	// Intents for keys the server has never seen surface in arrival order.
	for _, intent := range intents {
		if _, ok := seen[intent.Key]; ok {
			continue
		}
		if intent.DesiredQty == 0 {
			continue
		}
		item := NormalizeItem(intent.Item)
		item.Quantity = intent.DesiredQty
		result = append(result, item)
	}

	return result
}
