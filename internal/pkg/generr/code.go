package generr

type mErr struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *mErr) Error() string {
	return e.Msg
}

var (
	Success     = &mErr{200, "success"}
	ParseParam  = &mErr{400, "参数错误"}
	NotFound    = &mErr{404, "记录不存在"}
	ServerError = &mErr{500, "服务错误"}
)

var (
	SignMiss     = &mErr{601, "sign参数缺失"}
	SignNotMatch = &mErr{602, "sign不匹配"}
	TimestampErr = &mErr{603, "time参数错误"}
	TimestampOut = &mErr{604, "time超时"}
	ReadDB       = &mErr{698, "读数据库错误"}
	UpdateDB     = &mErr{699, "更新数据库错误"}

	InvalidRequest  = &mErr{701, "请求内容不合法"}
	InvalidRates    = &mErr{702, "费率表不合法"}
	DistributeError = &mErr{703, "佣金分配失败"}
	NoTargetUser    = &mErr{704, "无目标用户信息"}

	ReconcileError = &mErr{801, "对账失败"}
	RepairError    = &mErr{802, "修复失败"}
)
