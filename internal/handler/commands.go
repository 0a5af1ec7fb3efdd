package handler

// Client command ids. Replies reuse the request id.
const (
	CmdLogin     uint16 = 0x4100
	CmdLobbyList uint16 = 0x4101

	CmdCharacterList   uint16 = 0x4200
	CmdSelectCharacter uint16 = 0x4201

	CmdClanInfo uint16 = 0x4300

	CmdJoinLobby    uint16 = 0x4400
	CmdLeaveLobby   uint16 = 0x4401
	CmdLobbyMembers uint16 = 0x4402
	CmdChat         uint16 = 0x4403
	// CmdChatNotify is pushed to every character in the lobby.
	CmdChatNotify uint16 = 0x4404
)
