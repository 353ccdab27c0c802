// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders (the "did you pray?" prompt buttons)
//   - Reply keyboards for the onboarding dialog
//   - Callback data helpers (scope:action:payload)
package tgui
