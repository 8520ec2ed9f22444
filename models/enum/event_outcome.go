package enum

// EventOutcome 表示 webhook 事件的處理結果
type EventOutcome string

const (
	EventOutcomeApplied   EventOutcome = "applied"   // 狀態已變更
	EventOutcomeNoop      EventOutcome = "noop"      // 事件未觸發任何轉換
	EventOutcomeTerminal  EventOutcome = "terminal"  // 帳戶已在終止狀態，僅記錄
	EventOutcomeDuplicate EventOutcome = "duplicate" // 重複投遞
	EventOutcomeIgnored   EventOutcome = "ignored"   // 不處理的事件類型
	EventOutcomeDropped   EventOutcome = "dropped"   // 結構性錯誤，已確認但丟棄
)
