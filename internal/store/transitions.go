package store

import "github.com/mystziel/OneQueue-PH/internal/models"

var transitionMap = map[string][]string{
	"claim":    {models.StatusWaiting},
	"complete": {models.StatusServing},
	"cancel":   {models.StatusServing},
	"no_show":  {models.StatusServing},
	"transfer": {models.StatusServing},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
