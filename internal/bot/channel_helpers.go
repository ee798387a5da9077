package bot

// tryEnqueueUpdate отправляет обновление в канал с метриками переполнения.
// Возвращает true, если обновление поставлено в очередь.
func tryEnqueueUpdate(ch chan *Update, u *Update) bool {
	if ch == nil || u == nil {
		return false
	}

	select {
	case ch <- u:
		return true
	default:
		RecordBufferOverflow("updates")
		RecordBufferBacklog("updates", cap(ch), len(ch))
		return false
	}
}
