package wire

// DefaultTable returns the routes for the gateway's inbound messages at
// the client version range negotiated by ClientHello. Field indices count
// the message id as field 0.
func DefaultTable() Table {
	return Table{
		1:  {Name: "tickPrice", ReqIDField: 2},
		2:  {Name: "tickSize", ReqIDField: 2},
		3:  {Name: "orderStatus", ReqIDField: 1},
		4:  {Name: "error", ReqIDField: 2, PushIfNoID: true},
		5:  {Name: "openOrder"},
		6:  {Name: "updateAccountValue"},
		7:  {Name: "updatePortfolio"},
		8:  {Name: "updateAccountTime"},
		9:  {Name: "nextValidId"},
		10: {Name: "contractDetails", ReqIDField: 1},
		11: {Name: "execDetails", ReqIDField: 1},
		12: {Name: "updateMktDepth", ReqIDField: 2},
		13: {Name: "updateMktDepthL2", ReqIDField: 2},
		14: {Name: "updateNewsBulletin"},
		15: {Name: "managedAccounts"},
		16: {Name: "receiveFA"},
		// Below server version 196 all bars arrive in one message.
		17:  {Name: "historicalData", ReqIDField: 1, End: true},
		18:  {Name: "bondContractDetails", ReqIDField: 1},
		19:  {Name: "scannerParameters"},
		20:  {Name: "scannerData", ReqIDField: 2},
		21:  {Name: "tickOptionComputation", ReqIDField: 1},
		45:  {Name: "tickGeneric", ReqIDField: 2},
		46:  {Name: "tickString", ReqIDField: 2},
		47:  {Name: "tickEFP", ReqIDField: 2},
		49:  {Name: "currentTime"},
		50:  {Name: "realtimeBar", ReqIDField: 2},
		51:  {Name: "fundamentalData", ReqIDField: 2, End: true},
		52:  {Name: "contractDetailsEnd", ReqIDField: 2, End: true},
		53:  {Name: "openOrderEnd"},
		54:  {Name: "accountDownloadEnd"},
		55:  {Name: "execDetailsEnd", ReqIDField: 2, End: true},
		56:  {Name: "deltaNeutralValidation", ReqIDField: 2},
		57:  {Name: "tickSnapshotEnd", ReqIDField: 2, End: true},
		58:  {Name: "marketDataType", ReqIDField: 2},
		59:  {Name: "commissionReport"},
		61:  {Name: "position"},
		62:  {Name: "positionEnd"},
		63:  {Name: "accountSummary", ReqIDField: 2},
		64:  {Name: "accountSummaryEnd", ReqIDField: 2, End: true},
		71:  {Name: "positionMulti", ReqIDField: 2},
		72:  {Name: "positionMultiEnd", ReqIDField: 2, End: true},
		73:  {Name: "accountUpdateMulti", ReqIDField: 2},
		74:  {Name: "accountUpdateMultiEnd", ReqIDField: 2, End: true},
		75:  {Name: "securityDefinitionOptionParameter", ReqIDField: 1},
		76:  {Name: "securityDefinitionOptionParameterEnd", ReqIDField: 1, End: true},
		78:  {Name: "familyCodes"},
		79:  {Name: "symbolSamples", ReqIDField: 1, End: true},
		80:  {Name: "mktDepthExchanges"},
		81:  {Name: "tickReqParams", ReqIDField: 1},
		84:  {Name: "tickNews", ReqIDField: 1},
		85:  {Name: "newsProviders"},
		88:  {Name: "headTimestamp", ReqIDField: 1, End: true},
		89:  {Name: "histogramData", ReqIDField: 1, End: true},
		90:  {Name: "historicalDataUpdate", ReqIDField: 1},
		93:  {Name: "marketRule"},
		94:  {Name: "pnl", ReqIDField: 1},
		95:  {Name: "pnlSingle", ReqIDField: 1},
		99:  {Name: "tickByTick", ReqIDField: 1},
		101: {Name: "completedOrder"},
		102: {Name: "completedOrdersEnd"},
		108: {Name: "historicalDataEnd", ReqIDField: 1, End: true},
	}
}
