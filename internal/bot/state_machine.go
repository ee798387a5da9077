package bot

import "papertrade/internal/models"

// ValidTransitions определяет допустимые переходы статусов сессии
var ValidTransitions = map[string][]string{
	models.SessionStatusCreated: {models.SessionStatusRunning, models.SessionStatusStopped},
	models.SessionStatusRunning: {models.SessionStatusStopped},
	models.SessionStatusStopped: {}, // терминальный
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание статуса для UI
func StateInfo(s string) string {
	switch s {
	case models.SessionStatusCreated:
		return "Сессия создана, ордера не принимаются"
	case models.SessionStatusRunning:
		return "Сессия запущена, принимает ордера"
	case models.SessionStatusStopped:
		return "Сессия остановлена, доступна только история"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если сессия принимает ордера
func IsActive(s string) bool {
	return s == models.SessionStatusRunning
}

// IsTerminal - из статуса нет переходов
func IsTerminal(s string) bool {
	allowed, ok := ValidTransitions[s]
	return ok && len(allowed) == 0
}
